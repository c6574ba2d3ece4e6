package main

// GlobalFlags holds persistent flags shared by all subcommands.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
}

// StartFlags Flag structs to decouple cobra from logic for testing.
type StartFlags struct {
	ConfigPath string
	Name       string
	All        bool
}

type StopFlags struct {
	ConfigPath string
	Name       string
	All        bool
}

type RestartFlags struct {
	ConfigPath string
	Name       string
}

type StatusFlags struct {
	ConfigPath string
	Name       string
}

type ListFlags struct {
	ConfigPath string
}

type CleanFlags struct {
	ConfigPath string
}

type ServeFlags struct {
	ConfigPath string
}
