package main

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
)

func TestLevelRouter(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger := zerolog.New(&levelRouter{stdout: &stdout, stderr: &stderr})

	logger.Info().Msg("info")
	logger.Warn().Msg("warn")
	logger.Error().Msg("error")

	if !bytes.Contains(stdout.Bytes(), []byte(`"info"`)) || !bytes.Contains(stdout.Bytes(), []byte(`"warn"`)) {
		t.Errorf("expected info and warn on stdout, got %s", stdout.String())
	}
	if bytes.Contains(stdout.Bytes(), []byte(`"error"`)) {
		t.Errorf("error leaked to stdout: %s", stdout.String())
	}
	if !bytes.Contains(stderr.Bytes(), []byte(`"error"`)) {
		t.Errorf("expected error on stderr, got %s", stderr.String())
	}
}

func TestGeneratePassword(t *testing.T) {
	a, err := generatePassword(16)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := generatePassword(16)
	if len(a) != 16 || a == b {
		t.Errorf("expected distinct 16 character passwords, got %q and %q", a, b)
	}
}
