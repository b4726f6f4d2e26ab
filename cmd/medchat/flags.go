package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

type StartFlags struct {
	Port       int
	Host       string
	App        string
	Foreground bool
	StartGrace time.Duration
	JSON       bool
	APIUrl     string
	APITimeout time.Duration
}

type StopFlags struct {
	Timeout    time.Duration
	JSON       bool
	APIUrl     string
	APITimeout time.Duration
}

type StatusFlags struct {
	JSON       bool
	APIUrl     string
	APITimeout time.Duration
}

type LogsFlags struct {
	Type       string
	Lines      int
	APIUrl     string
	APITimeout time.Duration
}

type AgentAddFlags struct {
	ID           string
	Alias        string
	Region       string
	Description  string
	Capabilities []string
	Default      bool
}

type ServeFlags struct {
	Addr     string
	BasePath string
}

type UIFlags struct {
	Port int
	Host string
}

type UserAddFlags struct {
	Password string
	Role     string
	Name     string
}
