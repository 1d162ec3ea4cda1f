package storage

import "fmt"

// InputKey はアップロードされた PDF の保存キーです。
func InputKey(fileID string) string {
	return fmt.Sprintf("raw/%s.pdf", fileID)
}

// ImageKey は PDF と一緒にアップロードされた画像の保存キーです。
// 実際の形式に関わらず拡張子は .png になります。
func ImageKey(fileID string) string {
	return fmt.Sprintf("raw/%s_image.png", fileID)
}

// OutputKey はジョブの成果物の保存キーです。
func OutputKey(jobID string) string {
	return "processed/" + jobID
}
