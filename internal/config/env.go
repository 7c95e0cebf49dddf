package config

import "github.com/joho/godotenv"

// LoadEnv loads variables from .env files (default ".env") into the
// process environment. Variables that are already set win. A missing
// file is returned as an error satisfying os.IsNotExist.
func LoadEnv(files ...string) error {
	return godotenv.Load(files...)
}
