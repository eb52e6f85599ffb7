package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("config:config_test - Load failed: %v", err)
	}
	if len(c.ListenEndpoints) != 1 || c.ListenEndpoints[0] != "tcp://0.0.0.0:9559" {
		t.Errorf("config:config_test - unexpected default listen endpoints: %v", c.ListenEndpoints)
	}
	if c.ExecutorWorkers != 8 {
		t.Errorf("config:config_test - unexpected default executor workers: %d", c.ExecutorWorkers)
	}
}

func TestValidate_RequiresListenEndpoint(t *testing.T) {
	c := &Config{ExecutorWorkers: 1, ConnectTimeout: 1}
	if err := c.Validate(); err == nil {
		t.Fatal("config:config_test - expected error with no listen endpoints")
	}
}

func TestValidate_RequiresPositiveWorkers(t *testing.T) {
	c := &Config{ListenEndpoints: []string{"tcp://127.0.0.1:0"}, ExecutorWorkers: 0, ConnectTimeout: 1}
	if err := c.Validate(); err == nil {
		t.Fatal("config:config_test - expected error with zero executor workers")
	}
}
