package negotiation

// Status is the coarse call state shown to the user.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Status texts.
const (
	TextReady             = "Ready"
	TextRequestingMedia   = "Requesting media..."
	TextCreatingOffer     = "Creating offer..."
	TextCalling           = "Calling..."
	TextIncomingCall      = "Incoming call..."
	TextConnected         = "Connected"
	TextRenegotiating     = "Re-negotiating…"
	TextCallEnded         = "Call ended"
	TextPermissionBlocked = "Permissions blocked"
	TextSetupFailed       = "Call setup failed"
	TextConnectionFailed  = "Connection failed"
)
