package pdfconvert

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// windowsInstallPaths are the canonical LibreOffice locations searched
// when soffice is not on PATH.
var windowsInstallPaths = []string{
	`C:\Program Files\LibreOffice\program\soffice.exe`,
	`C:\Program Files (x86)\LibreOffice\program\soffice.exe`,
}

func findSoffice() (string, error) {
	if path, err := exec.LookPath("soffice"); err == nil {
		return path, nil
	}
	if runtime.GOOS == "windows" {
		for _, candidate := range windowsInstallPaths {
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("soffice not found on PATH")
}
