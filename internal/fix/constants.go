package fix

// --- Message Types ---
const (
	MsgTypeHeartbeat             = "0" // Heartbeat
	MsgTypeTestRequest           = "1" // Test Request
	MsgTypeResendRequest         = "2" // Resend Request
	MsgTypeReject                = "3" // Session-level Reject
	MsgTypeSequenceReset         = "4" // Sequence Reset
	MsgTypeLogout                = "5" // Logout
	MsgTypeLogon                 = "A" // Logon
	MsgTypeMarketDataRequest     = "V" // Market Data Request
	MsgTypeMarketDataSnapshot    = "W" // Market Data Snapshot/Full Refresh
	MsgTypeMarketDataIncremental = "X" // Market Data Incremental Refresh
)

// --- Protocol Constants ---
const (
	BeginString       = "FIX.4.4"
	TimeFormat        = "20060102-15:04:05.000"
	EncryptMethodNone = "0"
	HeartBtInterval   = "30"
	ResetSeqNumYes    = "Y"
)

// SOH is the FIX field separator byte.
const SOH = byte(0x01)

// --- Tags ---
const (
	TagBeginString             = 8
	TagBodyLength              = 9
	TagCheckSum                = 10
	TagMsgSeqNum               = 34
	TagMsgType                 = 35
	TagSenderCompID            = 49
	TagSendingTime             = 52
	TagSymbol                  = 55
	TagTargetCompID            = 56
	TagText                    = 58
	TagEncryptMethod           = 98
	TagHeartBtInt              = 108
	TagResetSeqNumFlag         = 141
	TagNoRelatedSym            = 146
	TagMDReqID                 = 262
	TagSubscriptionRequestType = 263
	TagMarketDepth             = 264
	TagNoMDEntryTypes          = 267
	TagNoMDEntries             = 268
	TagMDEntryType             = 269
	TagMDEntryPx               = 270
	TagMDEntrySize             = 271
	TagMDEntryTime             = 273
	TagUsername                = 553
	TagPassword                = 554
)

// --- Subscription Request Types ---
const (
	SubscriptionSnapshot        = "0" // Snapshot only
	SubscriptionSnapshotUpdates = "1" // Snapshot + Updates
	SubscriptionUnsubscribe     = "2" // Unsubscribe
)

// --- MD Entry Types ---
const (
	MDEntryTypeBid   = "0" // Bid
	MDEntryTypeOffer = "1" // Offer/Ask
)

// MarketDepthFullBook requests full book depth in a Market Data Request.
const MarketDepthFullBook = "0"

var typeNames = map[string]string{
	MsgTypeHeartbeat:             "Heartbeat",
	MsgTypeTestRequest:           "Test Request",
	MsgTypeResendRequest:         "Resend Request",
	MsgTypeReject:                "Reject",
	MsgTypeSequenceReset:         "Sequence Reset",
	MsgTypeLogout:                "Logout",
	MsgTypeLogon:                 "Logon",
	MsgTypeMarketDataRequest:     "Market Data Request",
	MsgTypeMarketDataSnapshot:    "Market Data Snapshot",
	MsgTypeMarketDataIncremental: "Market Data Incremental Refresh",
}

// TypeName returns a human label for a FIX message-type code. Unknown codes
// pass through as "Unknown (<code>)".
func TypeName(code string) string {
	if name, ok := typeNames[code]; ok {
		return name
	}
	return "Unknown (" + code + ")"
}
