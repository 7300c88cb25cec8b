package serialmux

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	SentenceGGA     = "GGA"
	SentenceRMC     = "RMC"
	SentenceGSA     = "GSA"
	SentenceGSV     = "GSV"
	SentenceVTG     = "VTG"
	SentencePMTK    = "PMTK"
	SentenceUnknown = "unknown"
)

// ClassifySentence returns the sentence type of an NMEA line: the three
// letter formatter for standard sentences regardless of talker (GP, GN, GL),
// PMTK for MediaTek proprietary replies, or SentenceUnknown.
func ClassifySentence(line string) string {
	if !strings.HasPrefix(line, "$") {
		return SentenceUnknown
	}
	body := line[1:]
	if i := strings.IndexAny(body, ",*"); i >= 0 {
		body = body[:i]
	}
	if strings.HasPrefix(body, "PMTK") {
		return SentencePMTK
	}
	if len(body) != 5 {
		return SentenceUnknown
	}
	switch f := body[2:]; f {
	case SentenceGGA, SentenceRMC, SentenceGSA, SentenceGSV, SentenceVTG:
		return f
	default:
		return SentenceUnknown
	}
}

// Checksum returns the NMEA XOR checksum of a sentence body (the text between
// '$' and '*').
func Checksum(body string) byte {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return sum
}

// VerifyChecksum reports whether line carries a valid "*hh" checksum. Lines
// without one are accepted: some receivers omit it on proprietary replies.
func VerifyChecksum(line string) bool {
	if !strings.HasPrefix(line, "$") {
		return true
	}
	star := strings.LastIndexByte(line, '*')
	if star < 0 {
		return true
	}
	want, err := strconv.ParseUint(line[star+1:], 16, 8)
	if err != nil || len(line)-star-1 != 2 {
		return false
	}
	return Checksum(line[1:star]) == byte(want)
}

// FrameSentence turns a bare body such as "PMTK220,1000" into a complete
// sentence with checksum and CRLF. Input already starting with '$' only has
// its line ending normalised.
func FrameSentence(command string) string {
	command = strings.TrimRight(command, "\r\n")
	if !strings.HasPrefix(command, "$") {
		command = fmt.Sprintf("$%s*%02X", command, Checksum(command))
	}
	return command + "\r\n"
}
