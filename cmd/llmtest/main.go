// Command llmtest sends a scripted intake conversation through the
// configured AI providers and prints how each reply classifies.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/clinic-intake/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-intake/internal/config"
	"github.com/wolfman30/clinic-intake/internal/conversation"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	orchestrator, closeAI, err := bootstrap.BuildOrchestrator(ctx, cfg, logger, nil)
	if err != nil {
		log.Fatalf("build orchestrator: %v", err)
	}
	defer closeAI()

	turns := []string{
		"Hola, quiero una cita",
		"Consulta de medicina general",
		"María Pérez, cédula 12345678, nómina mayor, gerencia de operaciones, el martes",
	}

	var history []conversation.ChatMessage
	for i, text := range turns {
		history = append(history, conversation.ChatMessage{Role: conversation.ChatRoleUser, Content: text})
		start := time.Now()
		raw, err := orchestrator.Generate(ctx, conversation.DefaultSystemPrompt(), history)
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			fmt.Printf("[%d] ❌ %v (%v)\n", i+1, err, elapsed)
			return
		}
		history = append(history, conversation.ChatMessage{Role: conversation.ChatRoleAssistant, Content: raw})

		fmt.Printf("[%d] user: %s\n", i+1, text)
		switch c := conversation.Classify(raw).(type) {
		case conversation.Action:
			fmt.Printf("    ✅ action %s %v (%v)\n", c.Name, c.Args, elapsed)
		case conversation.Reply:
			fmt.Printf("    ✅ reply (%v): %s\n", elapsed, c.Text)
		}
	}
}
