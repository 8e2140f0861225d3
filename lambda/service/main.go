package main

import (
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/mra-mines/map-ingestion-service/lambda/service/handler"
)

func main() {
	lambda.Start(handler.Handler)
}
