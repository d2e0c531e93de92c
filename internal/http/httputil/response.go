package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hxuan190/leverage-keeper/internal/common"
)

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

func Error(c *gin.Context, status int, err string) {
	c.JSON(status, Response{
		Success: false,
		Error:   err,
	})
}

// Fail writes e, with data attached when the caller has a partial result.
func Fail(c *gin.Context, e *common.HttpError, data interface{}) {
	c.AbortWithStatusJSON(e.StatusCode, Response{
		Success: false,
		Data:    data,
		Code:    e.Code,
		Error:   e.Message,
	})
}

func BadRequest(c *gin.Context, err string) {
	Fail(c, common.HTTPErrorBadRequest(err), nil)
}

func InternalError(c *gin.Context, err string) {
	Fail(c, common.HTTPErrorInternalError(err), nil)
}

func NotFound(c *gin.Context, err string) {
	Fail(c, common.HTTPErrorNotFound(err), nil)
}
