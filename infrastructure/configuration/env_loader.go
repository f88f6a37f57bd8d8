package configuration

import (
	"bufio"
	"os"
	"strings"

	"crosspost/infrastructure/logger"
)

// LoadEnvFromFile loads KEY=VALUE pairs from the given files into the process
// environment. Existing OS env always wins; files are tried in order and
// missing files are skipped.
func LoadEnvFromFile(paths ...string) {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
			if key == "" {
				continue
			}
			if _, exists := os.LookupEnv(key); exists {
				continue
			}
			if err := os.Setenv(key, val); err != nil {
				logger.GetLogger().WithField("key", key).Warn("Failed to set env var from file")
			}
		}
		_ = f.Close()
	}
}
