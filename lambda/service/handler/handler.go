package handler

import (
	"context"
	"os"
	"regexp"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"

	"github.com/mra-mines/map-ingestion-service/pkg/authorizer"
	"github.com/mra-mines/map-ingestion-service/pkg/gateway"
)

var store *MapServiceStore

// init runs on cold start of the lambda and initializes the AWS clients.
func init() {
	log.SetFormatter(&log.JSONFormatter{})
	ll, err := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.SetLevel(log.InfoLevel)
	} else {
		log.SetLevel(ll)
	}

	cfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatalf("LoadDefaultConfig: %v\n", err)
	}

	s3Client := s3.NewFromConfig(cfg)

	store = NewMapServiceStore(
		dynamodb.NewFromConfig(cfg),
		s3Client,
		s3.NewPresignClient(s3Client),
		TableNames{
			Maps: os.Getenv("MAPS_TABLE"),
			Jobs: os.Getenv("JOBS_TABLE"),
		},
		Buckets{
			Upload: os.Getenv("UPLOAD_BUCKET"),
			Output: os.Getenv("OUTPUT_BUCKET"),
		},
	)
}

var routeKeyRe = regexp.MustCompile(`(?P<method>) (?P<pathKey>.*)`)

// Handler handles requests to the API V2 /maps and /jobs endpoints.
func Handler(ctx context.Context, request events.APIGatewayV2HTTPRequest) (*events.APIGatewayV2HTTPResponse, error) {

	routeKeyParts := routeKeyRe.FindStringSubmatch(request.RouteKey)
	if routeKeyParts == nil {
		return gateway.ErrorResp("Incorrect Route", 404), nil
	}
	routeKey := routeKeyParts[routeKeyRe.SubexpIndex("pathKey")]
	method := request.RequestContext.HTTP.Method

	claims := authorizer.ParseClaims(request)
	if claims == nil {
		return gateway.ErrorResp("User is not authenticated.", 401), nil
	}

	var apiResponse *events.APIGatewayV2HTTPResponse
	var err error

	switch routeKey {
	case "/maps/upload":
		if method == "POST" {
			apiResponse, err = postMapUploadRoute(ctx, request, claims)
		}
	case "/maps":
		if method == "GET" {
			apiResponse, err = getMapsRoute(ctx, request, claims)
		}
	case "/maps/{id}":
		switch method {
		case "GET":
			apiResponse, err = getMapRoute(ctx, request, claims)
		case "DELETE":
			apiResponse, err = deleteMapRoute(ctx, request, claims)
		}
	case "/maps/{id}/download":
		if method == "GET" {
			apiResponse, err = getMapDownloadRoute(ctx, request, claims)
		}
	case "/jobs":
		if method == "GET" {
			apiResponse, err = getJobsRoute(ctx, request, claims)
		}
	}

	if apiResponse == nil && err == nil {
		return gateway.ErrorResp("Incorrect Route", 404), nil
	}
	if err != nil {
		log.WithFields(log.Fields{"route_key": request.RouteKey}).Error(err)
		return gateway.ErrorResp("Internal Server Error", 500), nil
	}

	return apiResponse, nil
}
