package storage

// Bucket names, one per logical entity per database, following
// cuemby-warren's bucketNodes/bucketServices naming convention.
var (
	bucketPeers        = []byte("peers")
	bucketACL          = []byte("acl")
	bucketServiceState = []byte("service_state")

	bucketMemoryPrivate = []byte("memory_private")
	bucketMemoryPublic  = []byte("memory_public")
	bucketVectorIndex   = []byte("vector_index")

	bucketEvents    = []byte("events")
	bucketRooms     = []byte("rooms")
	bucketOrphans   = []byte("orphans")
	bucketSyncQueue = []byte("sync_queue")

	bucketManifests        = []byte("manifests")
	bucketSkillAttachments = []byte("skill_attachments")
	bucketSkillConfig      = []byte("skill_config")
	bucketDAGs             = []byte("dags")

	bucketCounters = []byte("counters")
	bucketLogs     = []byte("logs")
)
