package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"integration-console/pkg/lifecycle"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func run(err error) (*httptest.ResponseRecorder, Response) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	FromError(c, err)

	var body Response
	json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestFromErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{lifecycle.Validation("target_url", "bad"), http.StatusBadRequest, lifecycle.CodeValidation},
		{lifecycle.ErrNoValidApiKey, http.StatusForbidden, lifecycle.CodeNoValidApiKey},
		{lifecycle.ErrIntegrationDisabled, http.StatusForbidden, lifecycle.CodeIntegrationDisabled},
		{lifecycle.ErrNoAuthURL, http.StatusBadGateway, lifecycle.CodeNoAuthURL},
		{lifecycle.NotFound("missing"), http.StatusNotFound, lifecycle.CodeNotFound},
		{lifecycle.Conflict("dup"), http.StatusConflict, lifecycle.CodeConflict},
		{fmt.Errorf("wrapped: %w", lifecycle.ErrConfirmationRequired), http.StatusBadRequest, lifecycle.CodeConfirmationRequired},
		{gorm.ErrRecordNotFound, http.StatusNotFound, lifecycle.CodeNotFound},
	}
	for _, tc := range cases {
		w, body := run(tc.err)
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
		assert.Equal(t, tc.code, body.ErrorCode, tc.err.Error())
	}
}

func TestFromErrorPassesBackendMessage(t *testing.T) {
	w, body := run(lifecycle.Backend("上游撤销失败", errors.New("401 Unauthorized")))
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, body.Message, "401 Unauthorized")
}

func TestFromErrorUnknown(t *testing.T) {
	w, body := run(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, body.Message, "boom")
}

func TestFieldIsReported(t *testing.T) {
	_, body := run(lifecycle.Validation("api_key_id", "格式错误"))
	assert.Equal(t, "api_key_id", body.Field)
}
