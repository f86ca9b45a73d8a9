package server

import (
	"context"

	"github.com/toastate/toastpage/internal/server"
	"github.com/toastate/toastpage/pkg/config"
)

type Server interface {
	Start(ctx context.Context, withBuilder bool) error
}

func NewServer(cfg *config.Configuration) Server {
	return server.NewServer(cfg)
}
