package wire

import appErr "ojbridge/pkg/errors"

// IsProtocolError reports whether err is a malformed-frame or
// malformed-payload failure.
func IsProtocolError(err error) bool {
	switch appErr.GetCode(err) {
	case appErr.ProtocolError, appErr.TruncatedFrame, appErr.BadPayload:
		return true
	}
	return false
}

// IsTransportError reports whether err is a connect/timeout/IO failure.
func IsTransportError(err error) bool {
	return appErr.Is(err, appErr.TransportError)
}
