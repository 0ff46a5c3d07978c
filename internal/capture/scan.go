package capture

import (
	"fmt"
	"os"
)

// ScanDir 列出目录下所有合法的落盘文件。
// 目录不存在视为还没有任何数据；子目录、隐藏文件和无法解析的文件都会被跳过。
func ScanDir(dir string) ([]CapturedFileRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []CapturedFileRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read capture dir %s: %w", dir, err)
	}

	records := make([]CapturedFileRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		rec, err := Decode(entry.Name())
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
