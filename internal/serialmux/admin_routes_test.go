package serialmux

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localHostRequest builds a request from a loopback address; tsweb rejects
// debug requests from anywhere else.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func adminMux(t *testing.T) (*fakePort, *SerialMux[*fakePort], *http.ServeMux) {
	t.Helper()
	port := newFakePort("")
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)
	return port, mux, httpMux
}

func TestAdminRoutes_GPSCommand(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		form     url.Values
		wantCode int
		wantBody string
	}{
		{"sends command", http.MethodPost, url.Values{"command": {"PMTK220,1000"}}, http.StatusOK, `Sent "PMTK220,1000"`},
		{"empty command", http.MethodPost, url.Values{"command": {""}}, http.StatusBadRequest, "Missing command"},
		{"blank command", http.MethodPost, url.Values{"command": {"  "}}, http.StatusBadRequest, "Missing command"},
		{"no command field", http.MethodPost, url.Values{}, http.StatusBadRequest, "Missing command"},
		{"GET", http.MethodGet, nil, http.StatusMethodNotAllowed, "Method not allowed"},
		{"PUT", http.MethodPut, nil, http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, _, httpMux := adminMux(t)
			var body io.Reader
			if tt.form != nil {
				body = strings.NewReader(tt.form.Encode())
			}
			req := localHostRequest(tt.method, "/debug/gps-command", body)
			if tt.form != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), tt.wantBody)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, "$PMTK220,1000*1F\r\n", port.Written())
			}
		})
	}
}

func TestAdminRoutes_GPSCommandWriteError(t *testing.T) {
	port, _, httpMux := adminMux(t)
	port.SetWriteError(io.ErrShortWrite)

	form := url.Values{"command": {"PMTK220,1000"}}
	req := localHostRequest(http.MethodPost, "/debug/gps-command", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to write command")
}

func TestAdminRoutes_RejectsRemoteClients(t *testing.T) {
	_, _, httpMux := adminMux(t)
	req := httptest.NewRequest(http.MethodGet, "/debug/gps-console", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminRoutes_ConsoleAndScript(t *testing.T) {
	_, _, httpMux := adminMux(t)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/gps-console", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "gps-tail.js")

	w = httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/gps-tail.js", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, w.Body.String(), "EventSource")
}

func TestAdminRoutes_GPSState(t *testing.T) {
	_, mux, httpMux := adminMux(t)
	mux.State().Observe(testGGA)
	mux.State().ObserveCorrupt("$GPGGA*00")

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/gps-state", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var snap ReceiverSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, uint64(1), snap.Counts[SentenceGGA])
	assert.Equal(t, uint64(1), snap.Corrupt)
	assert.Equal(t, testGGA, snap.Latest[SentenceGGA])
}

func TestAdminRoutes_GPSTail(t *testing.T) {
	_, mux, httpMux := adminMux(t)

	t.Run("POST not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		httpMux.ServeHTTP(w, localHostRequest(http.MethodPost, "/debug/gps-tail", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("streams sentences", func(t *testing.T) {
		srv := httptest.NewServer(httpMux)
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/gps-tail", nil)
		require.NoError(t, err)
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		rd := bufio.NewReader(resp.Body)
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, ": connected\n", line)

		// The handler subscribed before writing the preamble.
		mux.publish(testGGA)
		for {
			line, err = rd.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data: ") {
				break
			}
		}
		assert.Equal(t, "data: "+testGGA+"\n", line)
	})
}

func TestDisabledSerialMux_AttachAdminRoutes(t *testing.T) {
	httpMux := http.NewServeMux()
	NewDisabledSerialMux().AttachAdminRoutes(httpMux)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/gps-disabled", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "disabled")
}
