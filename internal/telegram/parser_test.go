package telegram

import (
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantCmd     string
		wantAccount string
		wantReason  string
		wantBalance float64
		wantErr     bool
	}{
		{"status", "/status", "status", "", "", 0, false},
		{"status with bot name", "/status@signal_bot", "status", "", "", 0, false},
		{"help", "/help", "help", "", "", 0, false},
		{"positions all", "/positions", "positions", "", "", 0, false},
		{"positions account", "/positions main", "positions", "main", "", 0, false},
		{"risk all", "/risk", "risk", "", "", 0, false},
		{"risk account", "/risk alt", "risk", "alt", "", 0, false},
		{"enable", "/enable main", "enable", "main", "", 0, false},
		{"enable missing account", "/enable", "", "", "", 0, true},
		{"disable with reason", "/disable main too many losses", "disable", "main", "too many losses", 0, false},
		{"disable missing account", "/disable", "", "", "", 0, true},
		{"reset", "/reset main", "reset", "main", "", 0, false},
		{"reset with balance", "/reset main 1500,5", "reset", "main", "", 1500.5, false},
		{"reset bad balance", "/reset main lots", "", "", "", 0, true},
		{"reset negative balance", "/reset main -5", "", "", "", 0, true},
		{"pause", "/pause news at 15:00", "pause", "", "news at 15:00", 0, false},
		{"resume", "/resume", "resume", "", "", 0, false},
		{"uppercase", "/STATUS", "status", "", "", 0, false},
		{"russian alias", "/пауза", "pause", "", "", 0, false},
		{"russian enable", "/включить main", "enable", "main", "", 0, false},
		{"unknown", "/buy BTC", "", "", "", 0, true},
		{"not a command", "status", "", "", "", 0, true},
		{"empty", "/", "", "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCommand(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Command != tt.wantCmd {
				t.Errorf("Command = %v, want %v", got.Command, tt.wantCmd)
			}
			if got.Account != tt.wantAccount {
				t.Errorf("Account = %v, want %v", got.Account, tt.wantAccount)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason = %v, want %v", got.Reason, tt.wantReason)
			}
			if got.Balance != tt.wantBalance {
				t.Errorf("Balance = %v, want %v", got.Balance, tt.wantBalance)
			}
		})
	}
}

func TestNormalizeCommand(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"статус", "status"},
		{"позиции", "positions"},
		{"сброс", "reset"},
		{"продолжить", "resume"},
		{"Status", "status"},
		{"unknown", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := normalizeCommand(tt.input); got != tt.want {
				t.Errorf("normalizeCommand(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
