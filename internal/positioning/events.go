package positioning

// VPSAvailability is the result of an asynchronous VPS coverage check.
type VPSAvailability string

const (
	VPSUnknown                VPSAvailability = "unknown"
	VPSAvailable              VPSAvailability = "available"
	VPSUnavailable            VPSAvailability = "unavailable"
	VPSErrorInternal          VPSAvailability = "error_internal"
	VPSErrorNetworkConnection VPSAvailability = "error_network_connection"
	VPSErrorNotAuthorized     VPSAvailability = "error_not_authorized"
	VPSErrorResourceExhausted VPSAvailability = "error_resource_exhausted"
)

// IsError reports whether the check itself failed.
func (v VPSAvailability) IsError() bool {
	switch v {
	case VPSErrorInternal, VPSErrorNetworkConnection, VPSErrorNotAuthorized, VPSErrorResourceExhausted:
		return true
	}
	return false
}

// PermissionStatus is the device location permission.
type PermissionStatus string

const (
	PermissionUnknown PermissionStatus = "unknown"
	PermissionGranted PermissionStatus = "granted"
	PermissionDenied  PermissionStatus = "denied"
)
