package main

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/library-lookup/library-back/internal/catalog"
	"github.com/library-lookup/library-back/internal/config"
	"github.com/library-lookup/library-back/internal/db"
	"github.com/library-lookup/library-back/internal/service"
	"github.com/library-lookup/library-back/internal/token"
	"github.com/library-lookup/library-back/internal/transport"
)

func main() {
	app := fx.New(
		fx.Provide(
			NewLogger,
			config.NewConfig,
			db.NewGormClient,
			catalog.NewClient,
			token.NewManager,
			service.NewAuth,
			service.NewBooks,
			service.NewRatings,
			service.NewComments,
			transport.NewHTTPServer,
		),
		fx.Invoke(func(*transport.HTTPServer) {}),
	)

	app.Run()
}

func NewLogger() (*zap.SugaredLogger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
