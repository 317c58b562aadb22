package domain

import (
	"math"
	"testing"

	"github.com/google/uuid"
)

func validConfig() DialerConfig {
	return DialerConfig{
		CampaignID:           uuid.New(),
		DialMethod:           DialMethodAutodial,
		MaxConcurrentCalls:   50,
		AbandonRateThreshold: 0.03,
		PacingMultiplier:     1.0,
		IsActive:             true,
	}
}

func TestDialerConfigValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*DialerConfig)
	}{
		{"nil campaign id", func(c *DialerConfig) { c.CampaignID = uuid.Nil }},
		{"unknown dial method", func(c *DialerConfig) { c.DialMethod = "PREDICTIVE" }},
		{"zero abandon threshold", func(c *DialerConfig) { c.AbandonRateThreshold = 0 }},
		{"abandon threshold at one", func(c *DialerConfig) { c.AbandonRateThreshold = 1 }},
		{"zero concurrency", func(c *DialerConfig) { c.MaxConcurrentCalls = 0 }},
		{"negative multiplier", func(c *DialerConfig) { c.PacingMultiplier = -0.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestPaceable(t *testing.T) {
	cfg := validConfig()
	if !cfg.Paceable() {
		t.Fatal("active autodial config should be paceable")
	}
	cfg.IsActive = false
	if cfg.Paceable() {
		t.Fatal("inactive config should not be paceable")
	}
	cfg = validConfig()
	cfg.DialMethod = DialMethodManualPreview
	if cfg.Paceable() {
		t.Fatal("manual preview config should not be paceable")
	}
}

func TestSmoothReplacesGaugesAndBlendsRates(t *testing.T) {
	m := DialerMetrics{AvailableAgents: 2, ActiveCalls: 1, AverageCallTime: 100, ConnectionRate: 0.4, AbandonRate: 0.1}

	agents := 7
	active := 3
	act := 200.0
	conn := 0.8
	sample := MetricsSample{
		AvailableAgents: &agents,
		ActiveCalls:     &active,
		AverageCallTime: &act,
		ConnectionRate:  &conn,
	}

	next := m.Smooth(sample, 0.85)
	if next.AvailableAgents != 7 || next.ActiveCalls != 3 {
		t.Fatalf("gauges should be replaced, got agents=%d active=%d", next.AvailableAgents, next.ActiveCalls)
	}
	if math.Abs(next.AverageCallTime-115) > 1e-9 {
		t.Fatalf("expected ACT 115, got %v", next.AverageCallTime)
	}
	if math.Abs(next.ConnectionRate-0.46) > 1e-9 {
		t.Fatalf("expected connection rate 0.46, got %v", next.ConnectionRate)
	}
	if next.AbandonRate != 0.1 {
		t.Fatalf("nil sample field should leave abandon rate untouched, got %v", next.AbandonRate)
	}
}

func TestSmoothClampsRatesAndWeight(t *testing.T) {
	m := DialerMetrics{ConnectionRate: 0.5, AbandonRate: 0.5}

	over := 2.0
	next := m.Smooth(MetricsSample{ConnectionRate: &over, AbandonRate: &over}, 0)
	if next.ConnectionRate != 1 || next.AbandonRate != 1 {
		t.Fatalf("rates should clamp to 1, got conn=%v abandon=%v", next.ConnectionRate, next.AbandonRate)
	}

	under := -1.0
	next = m.Smooth(MetricsSample{ConnectionRate: &under}, 0)
	if next.ConnectionRate != 0 {
		t.Fatalf("rate should clamp to 0, got %v", next.ConnectionRate)
	}

	conn := 0.9
	next = m.Smooth(MetricsSample{ConnectionRate: &conn}, 5)
	if next.ConnectionRate != 0.5 {
		t.Fatalf("weight above 1 should act as pure history, got %v", next.ConnectionRate)
	}
}

func TestStatusForOutcome(t *testing.T) {
	cases := []struct {
		outcome CallOutcome
		want    ContactStatus
	}{
		{CallOutcomeAnswered, ContactStatusAnswered},
		{CallOutcomeNoAnswer, ContactStatusNoAnswer},
		{CallOutcomeBusy, ContactStatusBusy},
		{CallOutcomeVoicemail, ContactStatusVoicemail},
		{CallOutcomeFailed, ContactStatusRetryEligible},
		{CallOutcomeAbandoned, ContactStatusRetryEligible},
	}
	for _, tc := range cases {
		if got := StatusForOutcome(tc.outcome); got != tc.want {
			t.Errorf("StatusForOutcome(%s) = %s, want %s", tc.outcome, got, tc.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	for _, o := range []CallOutcome{CallOutcomeNoAnswer, CallOutcomeBusy, CallOutcomeFailed, CallOutcomeAbandoned} {
		if !o.Retryable() {
			t.Errorf("expected %s to be retryable", o)
		}
	}
	for _, o := range []CallOutcome{CallOutcomeAnswered, CallOutcomeVoicemail} {
		if o.Retryable() {
			t.Errorf("expected %s to be final", o)
		}
	}
}
