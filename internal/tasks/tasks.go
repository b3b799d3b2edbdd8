package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"blocmark/server/internal/config"
	"blocmark/server/internal/email"
	"blocmark/server/internal/models"
	"blocmark/server/internal/services"
)

// Task types. Email delivery is declared in services so it can be
// enqueued at notification time.
const (
	TypeOfferExpire     = "offer:expire"
	TypeBookingComplete = "booking:complete_elapsed"
	TypePhotoProcess    = "photo:process"
)

// sweepInterval is how often the periodic lifecycle sweeps re-run.
const sweepInterval = 5 * time.Minute

// --- Task Client (Enqueuing tasks) ---

func NewClient(rdb *redis.Client) *asynq.Client {
	clientOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}
	return asynq.NewClient(clientOpt)
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg                 *config.Config
	emailSender         email.Sender
	userService         services.IUserService
	notificationService services.INotificationService
	bookingService      services.IBookingService
	offerService        services.IOfferService
	locationService     services.ILocationService
	s3Client            *s3.Client
	taskClient          services.IAsynqClient
}

func NewTaskProcessor(
	cfg *config.Config,
	emailSender email.Sender,
	userService services.IUserService,
	notificationService services.INotificationService,
	bookingService services.IBookingService,
	offerService services.IOfferService,
	locationService services.ILocationService,
	s3Client *s3.Client,
	taskClient services.IAsynqClient,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:                 cfg,
		emailSender:         emailSender,
		userService:         userService,
		notificationService: notificationService,
		bookingService:      bookingService,
		offerService:        offerService,
		locationService:     locationService,
		s3Client:            s3Client,
		taskClient:          taskClient,
	}
}

// SetupServer configures an Asynq server and its handler mux for the
// requested worker roles. The caller runs the server.
func SetupServer(rdb *redis.Client, processor *TaskProcessor, isImageWorker bool, isBgWorker bool) (*asynq.Server, *asynq.ServeMux) {
	serverOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}

	srv := asynq.NewServer(
		serverOpt,
		asynq.Config{
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
				"images":   5,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				fmt.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v\n", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	if isBgWorker {
		mux.HandleFunc(services.TypeNotificationEmail, processor.HandleNotificationEmailTask)
		mux.HandleFunc(TypeOfferExpire, processor.HandleOfferExpireTask)
		mux.HandleFunc(TypeBookingComplete, processor.HandleBookingCompleteTask)
		fmt.Println("Registered background task handlers (notifications & lifecycle sweeps).")
	}

	if isImageWorker {
		mux.HandleFunc(TypePhotoProcess, processor.HandlePhotoProcessTask)
		fmt.Println("Registered photo processing task handlers.")
	}

	if !isBgWorker && !isImageWorker {
		fmt.Println("Running in API mode, no task server started.")
		return nil, nil
	}

	return srv, mux
}

// EnqueueInitialSweeps seeds the periodic lifecycle tasks. Each handler
// re-enqueues itself, so this only needs to run once per worker start.
func EnqueueInitialSweeps(ctx context.Context, client services.IAsynqClient) error {
	if _, err := client.EnqueueContext(ctx, asynq.NewTask(TypeOfferExpire, nil, asynq.Queue("low"))); err != nil {
		return fmt.Errorf("failed to enqueue offer expiry sweep: %w", err)
	}
	if _, err := client.EnqueueContext(ctx, asynq.NewTask(TypeBookingComplete, nil, asynq.Queue("low"))); err != nil {
		return fmt.Errorf("failed to enqueue booking completion sweep: %w", err)
	}
	return nil
}

// --- Task Handlers ---

// emailContent maps a notification type to a subject and body line for
// the outbound email.
func emailContent(n *models.Notification, appName string) (string, string) {
	bookingRef := ""
	if id, ok := n.Payload["booking_id"].(string); ok {
		bookingRef = id
	}
	offerRef := ""
	if id, ok := n.Payload["offer_id"].(string); ok {
		offerRef = id
	}

	switch n.Type {
	case models.NotifyBookingRequested:
		return fmt.Sprintf("New booking request on %s", appName),
			fmt.Sprintf("You have a new booking request (%s). Review it in your dashboard to approve or decline.", bookingRef)
	case models.NotifyBookingConfirmed:
		return "Your booking is confirmed",
			fmt.Sprintf("Booking %s is confirmed. See your dashboard for details.", bookingRef)
	case models.NotifyBookingRejected:
		return "Your booking was declined",
			fmt.Sprintf("Booking %s was declined. The slot may have been taken by another request.", bookingRef)
	case models.NotifyBookingCancelled:
		return "A booking was cancelled",
			fmt.Sprintf("Booking %s has been cancelled.", bookingRef)
	case models.NotifyBookingEdited:
		return "A booking was updated",
			fmt.Sprintf("The time window of booking %s was changed. Check your dashboard for the new details.", bookingRef)
	case models.NotifyOfferReceived:
		return "You received a custom offer",
			fmt.Sprintf("A custom offer (%s) is waiting for your response.", offerRef)
	case models.NotifyOfferAccepted:
		return "Your offer was accepted",
			fmt.Sprintf("Offer %s was accepted. A booking awaiting payment has been created.", offerRef)
	case models.NotifyOfferRefused:
		return "Your offer was declined",
			fmt.Sprintf("Offer %s was declined.", offerRef)
	}
	return fmt.Sprintf("Notification from %s", appName), "You have a new notification."
}

// HandleNotificationEmailTask delivers a stored notification by email and
// marks it sent.
func (p *TaskProcessor) HandleNotificationEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload services.NotificationEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email task payload: %v: %w", err, asynq.SkipRetry)
	}

	notificationID, err := primitive.ObjectIDFromHex(payload.NotificationID)
	if err != nil {
		log.Printf("Invalid NotificationID in email task payload: %s", payload.NotificationID)
		return fmt.Errorf("invalid notification ID in payload: %w", asynq.SkipRetry)
	}

	notification, err := p.notificationService.FindNotificationByID(ctx, notificationID)
	if err != nil {
		log.Printf("Error fetching notification %s for email task: %v", payload.NotificationID, err)
		if strings.Contains(err.Error(), "no documents") {
			return fmt.Errorf("notification not found: %w", asynq.SkipRetry)
		}
		return err
	}
	if notification.Sent {
		log.Printf("Notification %s already sent, skipping.", payload.NotificationID)
		return nil
	}

	user, err := p.userService.FindByID(ctx, notification.UserID)
	if err != nil {
		log.Printf("Error fetching user %s for notification email: %v", notification.UserID.Hex(), err)
		return fmt.Errorf("notification recipient not found: %w", asynq.SkipRetry)
	}

	subject, bodyLine := emailContent(notification, p.cfg.AppName)

	fromAddress := p.cfg.SmtpFromAddress
	if fromAddress == "" {
		fromAddress = "noreply@example.com"
		log.Printf("Warning: SmtpFromAddress not configured, using fallback %s for email to %s", fromAddress, user.Email)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("To: %s\r\n", user.Email))
	sb.WriteString(fmt.Sprintf("From: %s\r\n", fromAddress))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(bodyLine)
	sb.WriteString("\r\n")

	if err := p.emailSender.Send(ctx, []string{user.Email}, subject, []byte(sb.String())); err != nil {
		fmt.Printf("Email sending failed (will retry?): %v\n", err)
		return err
	}

	if err := p.notificationService.MarkSent(ctx, notificationID); err != nil {
		log.Printf("ERROR marking notification %s sent: %v", payload.NotificationID, err)
	}

	log.Printf("Notification email delivered: To=%s, Type=%s", user.Email, notification.Type)
	return nil
}

// HandleOfferExpireTask expires stale pending offers and re-enqueues
// itself.
func (p *TaskProcessor) HandleOfferExpireTask(ctx context.Context, t *asynq.Task) error {
	if _, err := p.offerService.ExpireStale(ctx); err != nil {
		log.Printf("Error expiring stale offers: %v", err)
		return err
	}

	taskInfo, err := p.taskClient.EnqueueContext(ctx,
		asynq.NewTask(TypeOfferExpire, nil, asynq.Queue("low")),
		asynq.ProcessIn(sweepInterval))
	if err != nil {
		log.Printf("ERROR failed to re-enqueue offer expiry sweep: %v", err)
		return err
	}
	log.Printf("Offer expiry sweep done. Re-enqueued task %s to run in %v.", taskInfo.ID, sweepInterval)
	return nil
}

// HandleBookingCompleteTask moves elapsed confirmed bookings to completed
// and re-enqueues itself.
func (p *TaskProcessor) HandleBookingCompleteTask(ctx context.Context, t *asynq.Task) error {
	completed, err := p.bookingService.CompleteElapsed(ctx)
	if err != nil {
		log.Printf("Error completing elapsed bookings: %v", err)
		return err
	}
	if completed > 0 {
		log.Printf("Marked %d booking(s) completed.", completed)
	}

	taskInfo, err := p.taskClient.EnqueueContext(ctx,
		asynq.NewTask(TypeBookingComplete, nil, asynq.Queue("low")),
		asynq.ProcessIn(sweepInterval))
	if err != nil {
		log.Printf("ERROR failed to re-enqueue booking completion sweep: %v", err)
		return err
	}
	log.Printf("Booking completion sweep done. Re-enqueued task %s to run in %v.", taskInfo.ID, sweepInterval)
	return nil
}

// PhotoTaskPayload is the asynq payload for TypePhotoProcess.
type PhotoTaskPayload struct {
	S3Key      string `json:"s3_key"`
	LocationID string `json:"location_id"`
}

// HandlePhotoProcessTask normalizes an uploaded location photo: download,
// size/dimension checks, resize, re-upload, then attach to the location.
func (p *TaskProcessor) HandlePhotoProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload PhotoTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal photo task payload: %v: %w", err, asynq.SkipRetry)
	}

	locationID, err := primitive.ObjectIDFromHex(payload.LocationID)
	if err != nil {
		log.Printf("Invalid LocationID in photo task payload: %s", payload.LocationID)
		return fmt.Errorf("invalid location ID in payload: %w", asynq.SkipRetry)
	}

	log.Printf("Processing photo task: S3Key=%s, LocationID=%s", payload.S3Key, payload.LocationID)

	getObjectOutput, err := p.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.AwsS3Bucket),
		Key:    aws.String(payload.S3Key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			log.Printf("S3 object %s not found, likely upload failed or key incorrect.", payload.S3Key)
			return fmt.Errorf("s3 object not found: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("failed to download photo from S3: %w", err)
	}
	defer getObjectOutput.Body.Close()

	imgData, err := io.ReadAll(getObjectOutput.Body)
	if err != nil {
		return fmt.Errorf("failed to read photo data for key %s: %w", payload.S3Key, err)
	}

	maxSizeBytes := int64(p.cfg.PhotoMaxSizeMB) * 1024 * 1024
	if int64(len(imgData)) > maxSizeBytes {
		log.Printf("Photo %s exceeds max size (%d > %d bytes). Skipping.", payload.S3Key, len(imgData), maxSizeBytes)
		return fmt.Errorf("photo exceeds max size: %w", asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		log.Printf("Error decoding photo for key %s: %v", payload.S3Key, err)
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}
	log.Printf("Decoded photo %s, format: %s, size: %dx%d", payload.S3Key, format, img.Bounds().Dx(), img.Bounds().Dy())

	maxWidth := uint(p.cfg.PhotoMaxDimension)
	maxHeight := uint(p.cfg.PhotoMaxDimension)
	needsResize := uint(img.Bounds().Dx()) > maxWidth || uint(img.Bounds().Dy()) > maxHeight

	processedKey := payload.S3Key
	var processedData []byte
	contentType := aws.ToString(getObjectOutput.ContentType)

	if needsResize {
		resizedImg := resize.Thumbnail(maxWidth, maxHeight, img, resize.Lanczos3)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, resizedImg, &jpeg.Options{Quality: 85}); err != nil {
			return fmt.Errorf("failed to re-encode resized photo: %w", err)
		}
		processedData = buf.Bytes()
		contentType = "image/jpeg"
		log.Printf("Resized photo %s to %dx%d", payload.S3Key, resizedImg.Bounds().Dx(), resizedImg.Bounds().Dy())

		if int64(len(processedData)) > maxSizeBytes {
			log.Printf("Resized photo %s still exceeds max size. Skipping.", payload.S3Key)
			return fmt.Errorf("resized photo still exceeds max size: %w", asynq.SkipRetry)
		}
	} else {
		processedData = imgData
	}

	_, err = p.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.AwsS3Bucket),
		Key:         aws.String(processedKey),
		Body:        bytes.NewReader(processedData),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload processed photo: %w", err)
	}

	if err := p.locationService.AddPhotoToLocation(ctx, locationID, processedKey); err != nil {
		return fmt.Errorf("failed to attach processed photo to location: %w", err)
	}

	log.Printf("Photo task processed successfully: Key=%s, LocationID=%s", processedKey, payload.LocationID)
	return nil
}
