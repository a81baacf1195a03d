// Package sym defines the glyphs pressline prints ahead of command output.
// They are stable across CLI help, logs and the startup banner.
package sym

// Command glyphs
const (
	AM    = "≡" // am: configuration
	DB    = "⊔" // db: storage and migrations
	Dest  = "⟶" // dest: publish destinations
	Job   = "⨳" // job: generation requests
	Pulse = "꩜" // pulse: dispatch, monitoring and slots
)

// Lifecycle glyphs
const (
	PulseOpen  = "✿" // daemon startup
	PulseClose = "❀" // graceful shutdown
)

// SymbolToCommand maps a glyph to the top-level command it labels
var SymbolToCommand = map[string]string{
	AM:    "am",
	DB:    "db",
	Dest:  "dest",
	Job:   "job",
	Pulse: "pulse",
}

// CommandToSymbol is the inverse of SymbolToCommand
var CommandToSymbol = map[string]string{
	"am":    AM,
	"db":    DB,
	"dest":  Dest,
	"job":   Job,
	"pulse": Pulse,
}

// CommandDescriptions are the one-line help texts shown next to each glyph
var CommandDescriptions = map[string]string{
	"am":    "Show and validate configuration",
	"db":    "Migrate the job store",
	"dest":  "Manage publish destinations",
	"job":   "Create and inspect generation jobs",
	"pulse": "Run the dispatcher, monitor and slot scheduler",
}

// Short builds a cobra Short line for a top-level command
func Short(cmd string) string {
	return CommandToSymbol[cmd] + " " + CommandDescriptions[cmd]
}
