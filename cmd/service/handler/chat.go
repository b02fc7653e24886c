package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/quka-ai/ragstream/app/logic/v1"
	"github.com/quka-ai/ragstream/app/response"
	"github.com/quka-ai/ragstream/pkg/errors"
	"github.com/quka-ai/ragstream/pkg/i18n"
	"github.com/quka-ai/ragstream/pkg/types"
	"github.com/quka-ai/ragstream/pkg/utils"
)

const MESSAGE_ID_HEADER = "X-Message-Id"

// Chat answers the conversation as a line protocol stream. Failures found
// before the first byte get a regular JSON error response; after that they
// are reported in the stream's error frame.
func (s *HttpSrv) Chat(c *gin.Context) {
	var (
		err error
		req types.ChatRequest
	)
	if err = utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	logic := v1.NewChatLogic(c.Request.Context(), s.Core)
	lang, _ := v1.InjectLanguage(c)
	chat, err := logic.Validate(req, lang)
	if err != nil {
		response.APIError(c, err)
		return
	}

	release, err := logic.AcquireStream()
	if err != nil {
		response.APIError(c, err)
		return
	}
	defer release()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header(MESSAGE_ID_HEADER, chat.MessageID)
	c.Status(http.StatusOK)

	if err = logic.Stream(c.Writer, chat); err != nil {
		slog.Error("chat stream failed",
			slog.String("request_id", response.GetRequestID(c)),
			slog.String("message_id", chat.MessageID),
			slog.String("kind", string(errors.KindOf(err))),
			slog.String("error", err.Error()))
	}
}

// StopChatStream cancels the running answer of the message id in the path.
func (s *HttpSrv) StopChatStream(c *gin.Context) {
	msgID, exist := c.Params.Get("messageid")
	if !exist || msgID == "" {
		response.APIError(c, errors.New("api.StopChatStream", i18n.ERROR_INVALIDARGUMENT, nil).Code(http.StatusBadRequest))
		return
	}

	if err := v1.NewChatLogic(c, s.Core).StopStream(msgID); err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, nil)
}

type ModeResponse struct {
	Modes   []types.SearchMode `json:"modes"`
	Default types.SearchMode   `json:"default"`
}

func (s *HttpSrv) GetModes(c *gin.Context) {
	response.APISuccess(c, ModeResponse{
		Modes:   []types.SearchMode{types.SEARCH_MODE_RAG, types.SEARCH_MODE_AGENT},
		Default: types.SEARCH_MODE_RAG,
	})
}

func (s *HttpSrv) GetStatus(c *gin.Context) {
	response.APISuccess(c, s.Core.GetAIStatus())
}
