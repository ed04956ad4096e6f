package usecase

import "fmt"

func frameImageName(frameNumber int) string { return fmt.Sprintf("%d.jpg", frameNumber) }

func detectionName(frameNumber int) string { return fmt.Sprintf("%d.json", frameNumber) }

func errMissingFrame(frameNumber int) error {
	return fmt.Errorf("frame %d missing from extractor output", frameNumber)
}
