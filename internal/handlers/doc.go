// Package handlers provides HTTP API handlers for the media store.
package handlers

// @title Mediastore API
// @version 1.0.0
// @description Per-identity media uploads, byte-range delivery and anonymous-to-account migration.
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

//go:generate go run github.com/swaggo/swag/cmd/swag@latest init -g doc.go -o ../../docs --parseInternal
