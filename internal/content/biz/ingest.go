package biz

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/lk2023060901/bookshelf-backend/internal/content/detector"
	"github.com/lk2023060901/bookshelf-backend/internal/content/doctree"
	"github.com/lk2023060901/bookshelf-backend/internal/content/extractor"
	"github.com/lk2023060901/bookshelf-backend/internal/content/metrics"
	"github.com/lk2023060901/bookshelf-backend/internal/content/parser"
	"github.com/lk2023060901/bookshelf-backend/internal/content/types"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/logger"
)

// Ingest 导入文档：识别格式、解析、上传图片、渲染，再在一个事务内保存上传记录和图片
// 失败时返回 *IngestError
func (uc *IngestUseCase) Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, error) {
	if req == nil {
		req = &IngestRequest{}
	}
	id := uc.newID()
	bookID := normalizeID(req.BookID)

	ctx = logger.WithUploadID(ctx, id)
	if bookID != nil {
		ctx = logger.WithBookID(ctx, *bookID)
	}

	r := uc.newRun(ctx, id, req.Filename, req.FormatHint, req.Payload)
	r.keyPrefix = path.Join(strings.Trim(uc.opts.ImageFolder, "/"), id)

	doc, err := uc.prepare(ctx, r)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	if err := r.advance(ctx, StagePersisting); err != nil {
		return nil, r.fail(ctx, err)
	}
	upload := &types.ContentUpload{
		ID:               id,
		BookID:           bookID,
		OriginalFilename: originalFilename(req.Filename, r.format),
		Format:           r.format,
		HTMLContent:      doc.html,
		CreatedAt:        r.started,
		UpdatedAt:        r.started,
	}
	err = uc.tx.InTx(ctx, func(ctx context.Context) error {
		if bookID != nil {
			ok, err := uc.books.Exists(ctx, *bookID)
			if err != nil {
				return fmt.Errorf("failed to check book: %w", err)
			}
			if !ok {
				return ErrBookNotFound
			}
		}
		return uc.repo.Create(ctx, upload, doc.images)
	})
	if err != nil {
		return nil, r.fail(ctx, persistError(err))
	}

	r.done()
	return &IngestResult{Upload: upload, Images: doc.images, Warnings: r.warnings}, nil
}

// Reingest 用同格式的新文档重新生成已有上传的 html 和图片
// 旧图片行原子替换，提交后再删除旧对象
func (uc *IngestUseCase) Reingest(ctx context.Context, id, filename, hint string, payload []byte) (*IngestResult, error) {
	existing, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}

	ctx = logger.WithUploadID(ctx, id)
	if existing.BookID != nil {
		ctx = logger.WithBookID(ctx, *existing.BookID)
	}
	if strings.TrimSpace(filename) == "" {
		filename = existing.OriginalFilename
	}

	r := uc.newRun(ctx, id, filename, hint, payload)
	r.expect = existing.Format
	// 新的修订段，避免与待替换的对象键冲突
	revision := strconv.FormatInt(r.started.UnixMilli(), 36)
	r.keyPrefix = path.Join(strings.Trim(uc.opts.ImageFolder, "/"), id, revision)

	doc, err := uc.prepare(ctx, r)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	if err := r.advance(ctx, StagePersisting); err != nil {
		return nil, r.fail(ctx, err)
	}
	var (
		updated  *types.ContentUpload
		replaced []*types.UploadedImage
	)
	err = uc.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := uc.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		old, err := uc.repo.ListImages(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to list images: %w", err)
		}

		current.HTMLContent = doc.html
		current.UpdatedAt = advanceTime(current.UpdatedAt, r.started)
		if err := uc.repo.ReplaceContent(ctx, current, doc.images); err != nil {
			return err
		}
		updated, replaced = current, old
		return nil
	})
	if err != nil {
		return nil, r.fail(ctx, persistError(err))
	}

	r.done()
	uc.discard(ctx, staleURLs(replaced, doc.images))
	return &IngestResult{Upload: updated, Images: doc.images, Warnings: r.warnings}, nil
}

// rendered 持久化之前各阶段的产出
type rendered struct {
	html   string
	images []*types.UploadedImage
}

func (uc *IngestUseCase) prepare(ctx context.Context, r *run) (*rendered, error) {
	if err := r.advance(ctx, StageDetecting); err != nil {
		return nil, err
	}
	if err := uc.checkPayload(r.payload); err != nil {
		return nil, err
	}
	format, err := detector.Detect(r.payload, r.filename, r.hint)
	if err != nil {
		return nil, err
	}
	if r.expect != "" && format != r.expect {
		return nil, fmt.Errorf("%w: payload is %s, upload is %s", ErrFormatMismatch, format, r.expect)
	}
	r.format = format

	if err := r.advance(ctx, StageParsing); err != nil {
		return nil, err
	}
	doc, err := parser.Parse(ctx, format, r.payload, parser.Options{MaxEntryBytes: uc.opts.MaxEntryBytes})
	if err != nil {
		return nil, err
	}
	for _, s := range doc.Skipped {
		r.warn(WarningUnsupportedFeature, "", parser.SkipError(s).Error())
	}

	if err := r.advance(ctx, StageExtracting); err != nil {
		return nil, err
	}
	src, err := assetSource(format, r.payload, doc)
	if err != nil {
		return nil, err
	}
	assets, failures := uc.extractor.Extract(ctx, src, doc.ImagePaths())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, f := range failures {
		r.warn(assetWarningCode(f.Err), f.Path, f.Err.Error())
	}
	for _, ref := range doc.Unresolved {
		r.warn(WarningAssetNotFound, ref, fmt.Sprintf("%v: reference %s has no target", ErrAssetNotFound, ref))
	}

	if err := r.advance(ctx, StageUploading); err != nil {
		return nil, err
	}
	results := uc.uploadAll(ctx, r, assets)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	urls := make(map[string]string, len(results))
	images := make([]*types.UploadedImage, 0, len(results))
	storageFailures := 0
	for _, res := range results {
		if res.err != nil {
			storageFailures++
			r.warn(WarningStorageUnavailable, res.asset.Path, res.err.Error())
			continue
		}
		urls[res.asset.Path] = res.url
		images = append(images, &types.UploadedImage{
			ID:           uc.newID(),
			UploadID:     r.id,
			OriginalPath: res.asset.Path,
			CDNURL:       res.url,
			ContentType:  res.asset.ContentType,
			Size:         res.asset.Size,
			CreatedAt:    r.started,
		})
	}

	referenced := len(assets) + len(failures) + len(doc.Unresolved)
	failed := len(failures) + len(doc.Unresolved) + storageFailures
	if referenced > 0 && float64(failed)/float64(referenced) > uc.opts.FailureThreshold {
		return nil, fmt.Errorf("%w: %d of %d images could not be stored", ErrIngestionFailed, failed, referenced)
	}
	if uc.opts.FailOnStorageOutage && len(assets) > 0 && storageFailures == len(assets) {
		return nil, fmt.Errorf("%w: all %d uploads failed: %w", ErrIngestionFailed, storageFailures, ErrStorageUnavailable)
	}

	if err := r.advance(ctx, StageRendering); err != nil {
		return nil, err
	}
	html, err := uc.renderer.Render(doc, urls)
	if err != nil {
		return nil, err
	}
	return &rendered{html: html, images: images}, nil
}

func (uc *IngestUseCase) checkPayload(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if uc.opts.MaxPayloadBytes > 0 && int64(len(payload)) > uc.opts.MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), uc.opts.MaxPayloadBytes)
	}
	return nil
}

// assetSource 解析图片路径：容器格式查压缩包，所有格式都查内联 data URI
func assetSource(format types.Format, payload []byte, doc *doctree.Document) (extractor.Source, error) {
	sources := extractor.MultiSource{}
	if len(doc.Embedded) > 0 {
		sources = append(sources, extractor.EmbeddedSource(doc.Embedded))
	}
	if format.Archive() {
		archive, err := extractor.NewArchiveSource(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}
		sources = append(sources, archive)
	}
	if len(sources) == 0 {
		return extractor.EmptySource{}, nil
	}
	return sources, nil
}

type uploadResult struct {
	asset extractor.Asset
	url   string
	err   error
}

// uploadAll 通过共享协程池并发上传图片（最多 UploadConcurrency 个），等待全部完成后返回
func (uc *IngestUseCase) uploadAll(ctx context.Context, r *run, assets []extractor.Asset) []uploadResult {
	results := make([]uploadResult, len(assets))
	for i := range assets {
		results[i].asset = assets[i]
	}

	g := uc.pool.NewGroup(uc.opts.UploadConcurrency)
	for i := range results {
		res := &results[i]
		key := objectKey(r.keyPrefix, i, res.asset.Path)
		err := g.Go(ctx, func() {
			res.url, res.err = uc.upload(ctx, key, res.asset)
		})
		if err != nil {
			if ctx.Err() == nil {
				err = fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
			}
			for j := i; j < len(results); j++ {
				results[j].err = err
			}
			break
		}
	}
	g.Wait()

	for _, res := range results {
		if res.err == nil && res.url != "" {
			r.uploaded = append(r.uploaded, res.url)
		}
	}
	return results
}

// upload 上传单张图片，临时失败按指数退避重试
func (uc *IngestUseCase) upload(ctx context.Context, key string, asset extractor.Asset) (string, error) {
	start := time.Now()
	var url string
	op := func() error {
		u, err := uc.uploader.Upload(ctx, key, asset.Data, asset.ContentType)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		url = u
		return nil
	}

	b := backoff.NewExponentialBackOff()
	if uc.opts.RetryInitialInterval > 0 {
		b.InitialInterval = uc.opts.RetryInitialInterval
	}
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	retries := uc.opts.UploadRetries
	if retries < 0 {
		retries = 0
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
		if ctx.Err() == nil && !errors.Is(err, ErrStorageUnavailable) {
			err = fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
	}
	uc.observer.ObserveAssetUpload(outcome, asset.Size, time.Since(start))
	return url, err
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// objectKey 生成对象键 {prefix}/{index}_{basename}，basename 只保留 URL 安全字符
func objectKey(prefix string, index int, assetPath string) string {
	base := path.Base(strings.ReplaceAll(assetPath, "\\", "/"))
	base = strings.Trim(unsafeKeyChars.ReplaceAllString(base, "_"), "_")
	if base == "" || base == "." {
		base = "image"
	}
	return fmt.Sprintf("%s/%d_%s", prefix, index, base)
}

func persistError(err error) error {
	switch {
	case errors.Is(err, ErrBookNotFound), errors.Is(err, ErrUploadNotFound),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistFailed, err)
}

func normalizeID(id *string) *string {
	if id == nil {
		return nil
	}
	v := strings.TrimSpace(*id)
	if v == "" {
		return nil
	}
	return &v
}

func originalFilename(name string, format types.Format) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "untitled" + format.Extension()
	}
	return name
}

// advanceTime 保证 updated_at 严格递增
func advanceTime(prev, next time.Time) time.Time {
	if next.After(prev) {
		return next
	}
	return prev.Add(time.Microsecond)
}

// staleURLs 返回 old 中不再被 current 使用的 url
func staleURLs(old, current []*types.UploadedImage) []string {
	keep := make(map[string]struct{}, len(current))
	for _, img := range current {
		keep[img.CDNURL] = struct{}{}
	}
	var urls []string
	for _, img := range old {
		if _, ok := keep[img.CDNURL]; !ok {
			urls = append(urls, img.CDNURL)
		}
	}
	return urls
}

// run 一次导入的状态机
type run struct {
	uc       *IngestUseCase
	id       string
	filename string
	hint     string
	payload  []byte
	expect   types.Format

	keyPrefix string
	format    types.Format
	warnings  []Warning
	uploaded  []string

	log        *logger.Logger
	started    time.Time // 持久化时间戳
	begun      time.Time
	stage      Stage
	stageStart time.Time
}

func (uc *IngestUseCase) newRun(ctx context.Context, id, filename, hint string, payload []byte) *run {
	now := uc.now().UTC().Truncate(time.Microsecond)
	return &run{
		uc:         uc,
		id:         id,
		filename:   filename,
		hint:       hint,
		payload:    payload,
		warnings:   []Warning{},
		log:        uc.logger.WithContext(ctx),
		started:    now,
		begun:      time.Now(),
	}
}

// advance 进入阶段 s，每个阶段边界都检查取消
func (r *run) advance(ctx context.Context, s Stage) error {
	r.observeStage()
	r.stage = s
	r.stageStart = time.Now()
	r.log.Debug("ingestion stage", zap.String("stage", string(s)))
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cancelled before %s: %w", s, err)
	}
	return nil
}

func (r *run) observeStage() {
	if r.stage != "" {
		r.uc.observer.ObserveStage(string(r.stage), time.Since(r.stageStart))
	}
}

func (r *run) warn(code WarningCode, assetPath, msg string) {
	r.warnings = append(r.warnings, Warning{Code: code, Path: assetPath, Message: msg})
	r.uc.observer.ObserveWarning(string(code))
	r.log.Warn("ingestion warning",
		zap.String("code", string(code)),
		zap.String("path", assetPath),
		zap.String("message", msg),
	)
}

func (r *run) done() {
	r.observeStage()
	r.stage = StageDone
	r.uc.observer.ObserveRun(string(r.format), metrics.OutcomeSuccess, time.Since(r.begun))
	r.log.Info("ingestion completed",
		zap.String("format", string(r.format)),
		zap.Int("images", len(r.uploaded)),
		zap.Int("warnings", len(r.warnings)),
	)
}

// fail 进入 Failed 阶段，清理已上传的对象，并给 err 标记阶段
func (r *run) fail(ctx context.Context, err error) error {
	stage := r.stage
	if stage == "" {
		stage = StageDetecting
	}
	r.observeStage()
	r.stage = StageFailed
	r.uc.discard(ctx, r.uploaded)

	format := string(r.format)
	if format == "" {
		format = "unknown"
	}
	outcome := metrics.OutcomeFailure
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		outcome = metrics.OutcomeCanceled
		r.log.Warn("ingestion cancelled", zap.String("stage", string(stage)), zap.Error(err))
	} else {
		r.log.Error("ingestion failed", zap.String("stage", string(stage)), zap.Error(err))
	}
	r.uc.observer.ObserveRun(format, outcome, time.Since(r.begun))

	return &IngestError{Stage: stage, Err: err}
}
