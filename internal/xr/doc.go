// Package xr defines the contract between the session runtime and the
// tracking backends it drives.
//
// A backend is one tracking modality (fiducial markers, GPS geolocation,
// an immersive headset session) that initialises against the shared render
// resources, ticks once per frame and releases its hardware on dispose. The
// runtime never looks inside a backend; it only sees Backend.
//
// Backend lifecycle, as tracked by the session registry:
//
//	Unregistered -> Initializing -> Ready -> Disposing -> Disposed
//	Initializing -> Unregistered   (init failed, or the registration was cancelled)
//
// Registration errors (*IncompatibleSessionError, *BackendInitError) are
// returned to the caller. Everything that can go wrong after activation
// (*BackendUpdateError, *BackendDisposeError, *AttachmentError) is contained
// and only reported, so one faulty backend never halts the render loop.
package xr
