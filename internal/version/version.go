package version

import "fmt"

// Заполняются через -ldflags "-X github.com/vladislavdragonenkov/boxoffice/internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, commit и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

// Version возвращает только версию (health, трейсы).
func Version() string { return version }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// UserAgent — заголовок исходящих запросов к платёжному шлюзу.
func UserAgent() string {
	return fmt.Sprintf("boxoffice/%s (%s)", version, commit)
}
