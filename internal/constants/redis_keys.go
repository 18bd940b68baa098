package constants

import "time"

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "rm"

	// MatchModulePrefix 匹配模块
	MatchModulePrefix = "match"
	// JobModulePrefix 岗位模块
	JobModulePrefix = "job"
	// FileModulePrefix 文件模块
	FileModulePrefix = "file"

	// EntityScore 单次打分实体
	EntityScore = "score"
	// EntityLock 分布式锁实体
	EntityLock = "lock"
	// EntityVector 向量实体
	EntityVector = "vector"
	// EntityDedupSet 去重集合实体
	EntityDedupSet = "dedup_set"
	// EntityMD5ToDocument MD5到文档ID的映射实体
	EntityMD5ToDocument = "md5_to_doc"

	// KeyMatchScore 打分缓存 (STRING, JSON)
	// 格式: rm:match:score:{candidateID}:{jobID}:{weightsHash}
	KeyMatchScore = AppPrefix + ":" + MatchModulePrefix + ":" + EntityScore + ":%s:%s:%s"

	// KeyRankLock 排序分布式锁 (STRING)
	// 格式: rm:match:lock:{jobID}
	KeyRankLock = AppPrefix + ":" + MatchModulePrefix + ":" + EntityLock + ":%s"

	// KeyJobDescriptionVector JD向量缓存 (HASH)
	// 格式: rm:job:vector:{jobID}
	KeyJobDescriptionVector = AppPrefix + ":" + JobModulePrefix + ":" + EntityVector + ":%s"

	// KeyFileMD5Set 文件MD5集合，用于快速去重 (SET)
	// 格式: rm:file:dedup_set
	KeyFileMD5Set = AppPrefix + ":" + FileModulePrefix + ":" + EntityDedupSet

	// KeyFileMD5ToDocument MD5到文档ID的映射 (STRING)
	// 格式: rm:file:md5_to_doc:{md5}
	KeyFileMD5ToDocument = AppPrefix + ":" + FileModulePrefix + ":" + EntityMD5ToDocument + ":%s"
)

const (
	// JobVectorCacheDuration JD向量缓存时长
	JobVectorCacheDuration = 24 * time.Hour
	// RankLockDuration 同一岗位排序互斥锁时长
	RankLockDuration = 2 * time.Minute
)
