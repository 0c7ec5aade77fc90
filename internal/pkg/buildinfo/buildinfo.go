package buildinfo

// Version 在 Release 构建时通过 -ldflags 注入，例如：
// -X github.com/PsychLayne/RiskTakingSuite/internal/pkg/buildinfo.Version=v1.0.0
var Version = "v1.0.0-dev"

// Commit 在 Release 构建时可选注入 git commit，例如：
// -X github.com/PsychLayne/RiskTakingSuite/internal/pkg/buildinfo.Commit=abcdef1
var Commit = "unknown"
