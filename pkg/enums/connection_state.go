package enums

// ConnectionState describes the push channel lifecycle.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	// ConnectionStatePollingOnly is entered once reconnect attempts are exhausted.
	ConnectionStatePollingOnly ConnectionState = "polling_only"
)

// String implements fmt.Stringer.
func (c ConnectionState) String() string {
	return string(c)
}

// GaugeValue maps the state onto a numeric metric value.
func (c ConnectionState) GaugeValue() float64 {
	switch c {
	case ConnectionStateConnecting:
		return 1
	case ConnectionStateConnected:
		return 2
	case ConnectionStatePollingOnly:
		return 3
	}
	return 0
}
