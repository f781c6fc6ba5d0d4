package app

import (
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/health"
)

func TestInitKafka_EmptyBrokers(t *testing.T) {
	if rt := initKafka(Config{}, log.WithField("test", "kafka"), health.NewHandler("test")); rt != nil {
		t.Fatal("expected nil kafka runtime without brokers")
	}
}

func TestCloseKafka_Nil(t *testing.T) {
	logger := log.WithField("test", "kafka")
	closeKafka(nil, logger)
	closeKafka(&kafkaRuntime{}, logger)
}
