package i18n

var ALLOW_LANG = map[string]bool{
	"en":    true,
	"zh-CN": true,
}

const DEFAULT_LANG = "en"

const (
	ERROR_INTERNAL          = "error.internal"
	ERROR_NOT_FOUND         = "error.notfound"
	ERROR_INVALIDARGUMENT   = "error.invalidargument"
	ERROR_TOO_MANY_REQUESTS = "error.tooManyRequests"
	ERROR_MORE_THAN_MAX     = "error.moreThanMax"

	ERROR_CHAT_NO_USER_MESSAGE    = "error.chat.no_user_message"
	ERROR_CHAT_UNSUPPORTED_MODE   = "error.chat.unsupported_mode"
	ERROR_CHAT_STREAM_NOT_FOUND   = "error.chat.stream_not_found"
	ERROR_BACKEND_UNAVAILABLE     = "error.backend.unavailable"
	ERROR_BACKEND_MALFORMED       = "error.backend.malformed"
	ERROR_STREAM_ENCODING         = "error.stream.encoding"
	ERROR_STREAM_CANCELED         = "error.stream.canceled"
	ERROR_STREAM_ALL_TIERS_FAILED = "error.stream.all_tiers_failed"

	MESSAGE_CHAT_STREAM_STOPPED = "message.chat.stream.stopped"
)
