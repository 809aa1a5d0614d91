package webhook

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/log"
	"github.com/ternbot/tern/src/structs"
)

// InteractionHandler answers an HTTP-delivered interaction. A nil
// response falls back to a plain acknowledgement.
type InteractionHandler func(i *structs.Interaction) *structs.InteractionResponse

// Server receives interactions pushed over HTTP instead of the gateway.
// Requests are signature-verified before they reach the handler.
type Server struct {
	router  *fiber.App
	pubKey  string
	handler InteractionHandler
}

func NewServer(publicKey string, handler InteractionHandler) *Server {
	return &Server{
		router:  fiber.New(),
		pubKey:  publicKey,
		handler: handler,
	}
}

func (server *Server) setupRouter() {
	router := fiber.New()
	router.Use("/", server.VerifyKeyMiddleware)
	router.Use("/", server.PingRequestMiddleware)
	router.Post("/interactions", func(c fiber.Ctx) error {
		req := new(structs.Interaction)
		if err := c.Bind().JSON(req); err != nil {
			log.Error(err)
			return c.Status(http.StatusInternalServerError).SendString("internal server error")
		}
		if req.Type != structs.InteractionTypeApplicationCommand &&
			req.Type != structs.InteractionTypeMessageComponent {
			log.Error("unknown interaction type")
			return c.Status(http.StatusBadRequest).SendString("bad request")
		}
		if server.handler != nil {
			if res := server.handler(req); res != nil {
				return c.JSON(res)
			}
		}
		return c.JSON(structs.InteractionResponse{
			Type: structs.InteractionResponseTypeChannelMessageWithSource,
		})
	})
	server.router = router
}

func (server *Server) StartServer(ctx context.Context, addr string) {
	server.setupRouter()
	log.Info("webhook server start at " + addr)
	server.router.Listen(addr, fiber.ListenConfig{
		GracefulContext: ctx,
		OnShutdownSuccess: func() {
			log.Info("webhook server stopped.")
		},
	})
}
