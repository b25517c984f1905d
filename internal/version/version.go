package version

// Set at build time:
// go build -ldflags "-X github.com/mhuici/tamarindo-reports-sub000/internal/version.Version=v1.2.0"
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// String is the one-line build description.
func String() string {
	return Version + " (" + Commit + ", " + BuildTime + ")"
}
