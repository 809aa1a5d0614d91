package webhook

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/ternbot/tern/src/structs"
)

func (server *Server) PingRequestMiddleware(c fiber.Ctx) error {
	i := new(structs.Interaction)
	if err := c.Bind().JSON(i); err != nil {
		return err
	}
	if i.Type == structs.InteractionTypePing {
		return c.JSON(structs.InteractionResponse{
			Type: structs.InteractionResponseTypePong,
		})
	}
	return c.Next()
}

func (server *Server) VerifyKeyMiddleware(c fiber.Ctx) error {
	pubKeyHex, err := hex.DecodeString(server.pubKey)
	if err != nil {
		return c.Status(http.StatusInternalServerError).SendString("invalid public key")
	}
	body := c.BodyRaw()
	headers := c.GetReqHeaders()
	timestamp, ok := headers["X-Signature-Timestamp"]
	if !ok || len(timestamp) == 0 {
		return c.Status(http.StatusUnauthorized).SendString("invalid timestamp signature")
	}
	signature, ok := headers["X-Signature-Ed25519"]
	if !ok || len(signature) == 0 {
		return c.Status(http.StatusUnauthorized).SendString("invalid ed25519 signature")
	}
	signatureHex, err := hex.DecodeString(signature[0])
	if err != nil {
		return c.Status(http.StatusUnauthorized).SendString("invalid ed25519 signature")
	}
	message := bytes.Join([][]byte{[]byte(timestamp[0]), body}, []byte(""))
	if !ed25519.Verify(pubKeyHex, message, signatureHex) {
		return c.Status(http.StatusUnauthorized).SendString("invalid request signature")
	}
	return c.Next()
}
