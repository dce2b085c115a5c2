package main

import "github.com/eleven-am/scribe-backend/internal/bootstrap"

// @title Scribe Backend API
// @version 1.0.0
// @description Streaming clinical transcription and analysis service

// @BasePath /v1

func main() {
	bootstrap.Run()
}
