package main

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"dax/api"
	"dax/infra"
)

func main() {
	args := ParseArgs()
	if !args.Validate() {
		panic("missing arguments")
	}

	logger := infra.NewLogger(args.LogLevel, args.LogDir)
	slog.SetDefault(logger)

	server, err := api.NewServer(args.ServerConfig, logger)
	if err != nil {
		panic(err)
	}
	server.Start()
	defer server.Close()

	router := gin.Default()
	server.RegisterRoutes(router)
	if err := router.Run(args.ServerURL); err != nil {
		panic(err)
	}
}
