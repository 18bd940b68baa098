package storage

import "time"

// DocumentProcessMessage 文档入库后投递给处理队列的消息
type DocumentProcessMessage struct {
	DocumentID          string    `json:"document_id"`
	SubmittedAt         time.Time `json:"submitted_at"`
	OriginalFilename    string    `json:"original_filename"`
	OriginalFilePathOSS string    `json:"original_file_path_oss"` // MinIO中的对象键
	RawFileMD5          string    `json:"raw_file_md5,omitempty"` // 处理彻底失败时用于撤销去重登记
}
