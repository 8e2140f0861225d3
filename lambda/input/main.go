package main

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/mra-mines/map-ingestion-service/lambda/input/handler"
)

func main() {
	lambda.Start(handler.Handler)
}
