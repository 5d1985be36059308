// Package at holds the vocabulary of the Hayes AT command dialect spoken by
// cellular modems: result codes, unsolicited result code prefixes and the
// helpers used to cut a modem byte stream into lines.
package at

const (
	// Terminal Control
	CR     = "\r"
	LF     = "\n"
	CRLF   = "\r\n"
	Prompt = "> "
	CtrlZ  = "\x1a"

	// Response Codes
	OK         = "OK"
	ERROR      = "ERROR"
	Connect    = "CONNECT"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes)
	UrcNewMsg         = "+CMTI:"
	UrcMessageReport  = "+CDSI:"
	UrcSignalStrength = "+CSQ:"
	UrcCall           = "RING"
	UrcRegistration   = "+CREG:"
	UrcGPRSReg        = "+CGREG:"
	UrcEPSReg         = "+CEREG:"

	// Commands
	CmdAt            = "AT"
	CmdEchoOff       = "ATE0"
	CmdVerboseErrors = "AT+CMEE=2"
	CmdSimStatus     = "AT+CPIN?"
	CmdSetTextMode   = "AT+CMGF=1"
	CmdRegUnsol      = "AT+CREG=1"
	CmdRegStatus     = "AT+CREG?"
	CmdIMEI          = "AT+CGSN"
	CmdModel         = "AT+CGMM"
	CmdManufacturer  = "AT+CGMI"
	CmdRevision      = "AT+CGMR"
	CmdSignalQuality = "AT+CSQ"

	// SIM states reported by +CPIN
	SimReady = "READY"
	SimPin   = "SIM PIN"
)

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CSQ: ...)
	TypePrompt                     // SMS input prompt
)

func (t ResponseType) String() string {
	switch t {
	case TypeFinal:
		return "final"
	case TypeURC:
		return "urc"
	case TypeData:
		return "data"
	case TypePrompt:
		return "prompt"
	default:
		return "unknown"
	}
}
