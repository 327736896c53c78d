package version

// Version is the current version of the TabTalk binary.
// Release builds override it with:
//   go build -ldflags="-X 'github.com/sivaratrisrinivas/TabTalk/internal/version.Version=v1.0.0'"
var Version = "dev"
