package collab

import (
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
)

func testContext(method, target string) (*httptest.ResponseRecorder, *gin.Context) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, http.NoBody)
	return w, c
}
