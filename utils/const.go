package utils

import "time"

// skip list
const (
	MaxLevel         = 16
	LevelProbability = 0.25
)

// defaults for Options
const (
	DefaultQueueWidth     = 16
	DefaultCopyBufferSize = 50 << 20
	DefaultCloneSpeedup   = 5
	DefaultTimeout        = 30 * time.Second
	DefaultCacheBlockSize = 4096
	DefaultCacheBlocks    = 1024
)

const (
	ExnodeFileName      = "exnode.ini"
	ExnodeProtoFileName = "exnode.pb"
	ExnodeRewriteSuffix = ".rewrite"
	SegmentFileExt      = ".seg"
)

// exchange encodings
const (
	ExchangeFormatText  = "text"
	ExchangeFormatProto = "proto"
)
