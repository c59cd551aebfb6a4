package headers

import (
	"log"
	"os"
	"time"

	"github.com/m-lab/go/logx"
)

var (
	sparseLogger = log.New(os.Stderr, "headers: ", log.LstdFlags|log.Lshortfile)
	sparse1      = logx.NewLogEvery(sparseLogger, time.Second)
)
