package main

import (
	"log"

	"github.com/joho/godotenv"

	"pjdir/internal/server"
)

func main() {
	godotenv.Load()

	s, err := server.NewServer()
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}

	s.Run()
}
