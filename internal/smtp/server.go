package smtp

import (
	"time"

	gosmtp "github.com/emersion/go-smtp"

	"dropmail/backend/internal/config"
)

// NewServer 基于配置构建 go-smtp 服务器。
func NewServer(backend *Backend, cfg config.SMTPConfig) *gosmtp.Server {
	server := gosmtp.NewServer(backend)
	server.Addr = cfg.BindAddr
	server.Domain = cfg.Domain
	server.MaxMessageBytes = cfg.MaxMessageBytes
	server.MaxRecipients = 50
	server.ReadTimeout = 60 * time.Second
	server.WriteTimeout = 60 * time.Second
	server.AllowInsecureAuth = true
	return server
}
