package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/streamspace/sealskin/internal/app"
	"github.com/streamspace/sealskin/internal/crypto"
	"github.com/streamspace/sealskin/internal/httpmw"
	"github.com/streamspace/sealskin/internal/logger"
)

// NewAPIRouter builds the API-port router: handshake, encrypted
// admin/launch/share control plane, and the collaboration room page/socket.
func NewAPIRouter(b *app.Broker) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.HTTPMiddleware())

	h := &handlers{b: b}

	r.POST("/handshake/initiate", httpmw.SizeLimiter(httpmw.MaxRequestBodySize), h.handshakeInitiate)
	r.POST("/handshake/exchange", httpmw.SizeLimiter(httpmw.MaxRequestBodySize), h.handshakeExchange)

	b.Collab.RegisterHTTP(r)
	b.Collab.RegisterWS(r)

	public := r.Group("/public")
	{
		public.GET("/:shareID", h.shareDownload)
		public.POST("/:shareID", httpmw.SizeLimiter(httpmw.MaxRequestBodySize), h.sharePasswordSubmit)
		public.GET("/download/:token", h.shareConsumeToken)
	}

	secure := r.Group("/")
	secure.Use(crypto.DecryptMiddleware(b.Crypto), b.Identity.Middleware())
	{
		control := secure.Group("/")
		control.Use(httpmw.SizeLimiter(httpmw.MaxRequestBodySize))
		{
			control.POST("/launch", h.launch)
			control.POST("/sessions/:sessionID/stop", h.stopSession)
			control.POST("/shares", h.createShare)
			control.DELETE("/shares/:shareID", h.deleteShare)
		}

		uploads := secure.Group("/uploads")
		uploads.Use(httpmw.SizeLimiter(httpmw.MaxUploadChunkSize))
		{
			uploads.POST("", h.initiateUpload)
			uploads.POST("/:uploadID/chunk", h.uploadChunk)
			uploads.POST("/:uploadID/reassemble", h.reassembleUpload)
		}
	}

	return r
}

// NewSessionRouter builds the session-port router: the reverse proxy
// catch-all, registered last so it never shadows a more specific route.
func NewSessionRouter(b *app.Broker) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.HTTPMiddleware())
	b.Proxy.Register(r)
	return r
}

type handlers struct {
	b *app.Broker
}
