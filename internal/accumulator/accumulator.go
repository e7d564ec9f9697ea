package accumulator

import (
	"context"
	"errors"
	"sync"
	"time"

	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// MaxBatchSize 刷新阈值的硬上限
const MaxBatchSize = 1000

// ErrThresholdOutOfRange 阈值更新超出 [1, MaxBatchSize]
var ErrThresholdOutOfRange = errors.New("batch threshold out of range")

// Enqueuer 批次的下游投递接口（任务队列）
type Enqueuer interface {
	Enqueue(ctx context.Context, readings []models.Reading) (string, error)
}

// Accumulator 批量累积器：把逐条提交的读数聚成有界批次再入队
//
// 三个刷新触发条件，先到先触发：
//  1. 缓冲区达到阈值
//  2. 最后一次提交后的空闲定时器到期
//  3. 周期性强制刷新（保证低流量下读数的最大等待时间）
//
// 并发约定：append + 刷新判定 + 缓冲区换出在同一互斥区内完成，
// 换出是唯一的清空路径，两次刷新绝不会拿到同一批读数
type Accumulator struct {
	queue  Enqueuer
	logger *zap.Logger

	idleTimeout   time.Duration
	flushInterval time.Duration

	mu        sync.Mutex
	buf       []models.Reading
	threshold int
	idleTimer *time.Timer
	closed    bool

	flushCh chan []models.Reading
	stopCh  chan struct{}
	wg      sync.WaitGroup
	stop    sync.Once
}

// New 创建累积器
func New(queue Enqueuer, threshold int, idleTimeout, flushInterval time.Duration, logger *zap.Logger) (*Accumulator, error) {
	if threshold < 1 || threshold > MaxBatchSize {
		return nil, ErrThresholdOutOfRange
	}
	return &Accumulator{
		queue:         queue,
		logger:        logger,
		idleTimeout:   idleTimeout,
		flushInterval: flushInterval,
		buf:           make([]models.Reading, 0, threshold),
		threshold:     threshold,
		flushCh:       make(chan []models.Reading, 64),
		stopCh:        make(chan struct{}),
	}, nil
}

// Start 启动投递协程和周期性强制刷新
func (a *Accumulator) Start() {
	a.wg.Add(2)
	go a.dispatchLoop()
	go a.hardFlushLoop()
}

// Submit 提交一条读数：无条件接收，立即返回
// 返回不代表持久化完成，只代表读数已进入累积缓冲区
func (a *Accumulator) Submit(reading models.Reading) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.logger.Warn("Reading submitted after accumulator stopped, dropping",
			zap.Int64("patient_id", reading.PatientID),
		)
		return
	}

	a.buf = append(a.buf, reading)
	var batch []models.Reading
	if len(a.buf) >= a.threshold {
		batch = a.swapLocked()
	} else {
		a.resetIdleTimerLocked()
	}
	a.mu.Unlock()

	a.emit(batch)
}

// UpdateThreshold 更新刷新阈值；缓冲区已达新阈值时立即触发刷新
func (a *Accumulator) UpdateThreshold(newSize int) error {
	if newSize < 1 || newSize > MaxBatchSize {
		return ErrThresholdOutOfRange
	}

	a.mu.Lock()
	a.threshold = newSize
	var batch []models.Reading
	if len(a.buf) >= newSize {
		batch = a.swapLocked()
	}
	a.mu.Unlock()

	a.logger.Info("Batch threshold updated", zap.Int("threshold", newSize))
	a.emit(batch)
	return nil
}

// Threshold 当前刷新阈值
func (a *Accumulator) Threshold() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.threshold
}

// Stop 停止定时器并把缓冲区中剩余的读数刷出
func (a *Accumulator) Stop() {
	a.stop.Do(func() {
		a.mu.Lock()
		a.closed = true
		if a.idleTimer != nil {
			a.idleTimer.Stop()
		}
		batch := a.swapLocked()
		a.mu.Unlock()

		if batch != nil {
			a.enqueue(batch)
		}
		close(a.stopCh)
		a.wg.Wait()
	})
}

// swapLocked 原子换出缓冲区（唯一的清空路径）；空缓冲区返回 nil
// 调用方必须持有 a.mu
func (a *Accumulator) swapLocked() []models.Reading {
	if a.idleTimer != nil {
		a.idleTimer.Stop()
	}
	if len(a.buf) == 0 {
		return nil
	}
	batch := a.buf
	a.buf = make([]models.Reading, 0, a.threshold)
	return batch
}

// resetIdleTimerLocked 重置空闲刷新定时器；调用方必须持有 a.mu
func (a *Accumulator) resetIdleTimerLocked() {
	if a.idleTimer == nil {
		a.idleTimer = time.AfterFunc(a.idleTimeout, a.idleFlush)
		return
	}
	a.idleTimer.Reset(a.idleTimeout)
}

// idleFlush 空闲定时器到期回调
func (a *Accumulator) idleFlush() {
	a.mu.Lock()
	batch := a.swapLocked()
	a.mu.Unlock()
	a.emit(batch)
}

// hardFlushLoop 周期性强制刷新：即使提交源源不断但都达不到阈值，
// 也保证没有读数等待超过 flushInterval
func (a *Accumulator) hardFlushLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.mu.Lock()
			batch := a.swapLocked()
			a.mu.Unlock()
			a.emit(batch)
		}
	}
}

// emit 把换出的批次交给投递协程（累积器已停止时同步投递）
func (a *Accumulator) emit(batch []models.Reading) {
	if batch == nil {
		return
	}

	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		a.enqueue(batch)
		return
	}
	a.flushCh <- batch
}

// dispatchLoop 投递协程：提交路径绝不等待队列写入
func (a *Accumulator) dispatchLoop() {
	defer a.wg.Done()

	for {
		select {
		case batch := <-a.flushCh:
			a.enqueue(batch)
		case <-a.stopCh:
			// 停机时把通道里尚未投递的批次清空
			for {
				select {
				case batch := <-a.flushCh:
					a.enqueue(batch)
				default:
					return
				}
			}
		}
	}
}

// enqueueAttempts 入队失败时的本地重试次数（队列本身另有任务级重试）
const enqueueAttempts = 3

// enqueue 投递批次到任务队列，短暂退避重试后仍失败则记录并丢弃
func (a *Accumulator) enqueue(batch []models.Reading) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	delay := 200 * time.Millisecond
	var lastErr error
	for i := 0; i < enqueueAttempts; i++ {
		jobID, err := a.queue.Enqueue(ctx, batch)
		if err == nil {
			a.logger.Debug("Flushed batch to queue",
				zap.String("job_id", jobID),
				zap.Int("reading_count", len(batch)),
			)
			return
		}
		lastErr = err
		time.Sleep(delay)
		delay *= 2
	}

	a.logger.Error("Failed to enqueue batch, readings lost before durable handoff",
		zap.Int("reading_count", len(batch)),
		zap.Error(lastErr),
	)
}
