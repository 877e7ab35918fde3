package media

import "errors"

// Sentinel kinds for capture errors. Permission failures use model.ErrPermission.
var (
	ErrDeviceBusy        = errors.New("capture devices are owned by another session")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrEarlyExit         = errors.New("capture process exited")
)
