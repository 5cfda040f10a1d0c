package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smartbi/analyst/pkg/enginerr"
)

// httpStatus maps an error kind onto the response status.
func httpStatus(kind enginerr.Kind) int {
	switch kind {
	case enginerr.KindValidation, enginerr.KindSQLError:
		return http.StatusBadRequest
	case enginerr.KindNotFound:
		return http.StatusNotFound
	case enginerr.KindConflict, enginerr.KindExecutionBlocked:
		return http.StatusConflict
	case enginerr.KindPoolExhausted:
		return http.StatusTooManyRequests
	case enginerr.KindTimeout:
		return http.StatusGatewayTimeout
	case enginerr.KindCancelled:
		return 499
	case enginerr.KindDBTransient, enginerr.KindLLMUnavailable:
		return http.StatusServiceUnavailable
	case enginerr.KindDBPermanent, enginerr.KindLLMProtocol,
		enginerr.KindPlanInfeasible:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respond writes the envelope for a result or an error.
func respond(c *gin.Context, data any, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, enginerr.Ok(data))
}

func fail(c *gin.Context, err error) {
	c.JSON(httpStatus(enginerr.KindOf(err)), enginerr.Fail[any](err))
}

// failedWith writes the envelope for a failed operation whose partial
// result must still reach the caller alongside the error.
func failedWith(c *gin.Context, data any, err error) {
	env := enginerr.Fail[any](err)
	env.Data = data
	c.JSON(httpStatus(enginerr.KindOf(err)), env)
}

func badRequest(c *gin.Context, format string, args ...any) {
	fail(c, enginerr.New(enginerr.KindValidation, format, args...))
}
