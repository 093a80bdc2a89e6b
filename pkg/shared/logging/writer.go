package logging

import "os"

func zapWriter() *os.File {
	return os.Stdout
}
